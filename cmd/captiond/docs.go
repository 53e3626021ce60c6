package main

// General API documentation for swaggo. Build with -tags=swagger to serve
// the UI at /swagger/.
//
// @title           captiond API
// @version         1.0
// @description     Image captioning sidecar: model lifecycle, caption generation and accelerator status.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
