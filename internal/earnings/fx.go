package earnings

import (
	"github.com/inkstory/attribution/internal/earnings/repository"
	"github.com/inkstory/attribution/internal/earnings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("earnings.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
