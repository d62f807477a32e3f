package server

const (
	statusOK       = "HTTP/1.1 200 OK\r\n\r\n"
	statusNotFound = "HTTP/1.1 404 NOT FOUND\r\n\r\n"
)

const helloPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Hello!</title>
  </head>
  <body>
    <h1>Hello!</h1>
    <p>Hi from tpool</p>
  </body>
</html>
`

const notFoundPage = `<!DOCTYPE html>
<html lang="en">
  <head>
    <meta charset="utf-8">
    <title>Hello!</title>
  </head>
  <body>
    <h1>Oops!</h1>
    <p>Sorry, I don't know what you're asking for.</p>
  </body>
</html>
`
