package ads

import (
	"github.com/inkstory/attribution/internal/ads/repository"
	"github.com/inkstory/attribution/internal/ads/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ads.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
