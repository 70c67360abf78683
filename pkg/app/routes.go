package app

// initDefaultRoutes initializes the applications default routes.
//  These are the routes which always are the same in every application.
//  Things like user api, version, ...
func (app *App) initDefaultRoutes() {
	api := app.web.Group("/")
	if app.config.Webserver.Webservices["version"] {
		api.Get("/version", app.HandleVersion())
	}
	if app.config.Webserver.Webservices["health"] {
		api.Get("/health", app.HandleHealth())
	}
	if app.config.Webserver.Webservices["state"] {
		api.Get("/state", app.HandleState())
	}
	if app.config.Webserver.Webservices["control"] {
		api.Post("/trigger", app.HandleTrigger())
		api.Post("/reset", app.HandleReset())
		api.Post("/powerdown", app.HandlePowerdown())
	}
	if app.config.Webserver.Webservices["clock"] {
		clock := api.Group("/clock")
		clock.Post("/advance", app.HandleAdvance())
		clock.Post("/pause", app.HandlePause(true))
		clock.Post("/resume", app.HandlePause(false))
	}
	if app.config.Webserver.Webservices["snapshot"] {
		api.Get("/snapshot", app.HandleSnapshot())
		api.Post("/restore", app.HandleRestore())
	}
}
