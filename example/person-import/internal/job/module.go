package job

import "go.uber.org/fx"

// Module provides the person import JobDefinition and registers it with the controller.
var Module = fx.Options(
	fx.Provide(NewPersonImportJob),
	fx.Invoke(Register),
)
