package referral

import (
	"github.com/inkstory/attribution/internal/referral/repository"
	"github.com/inkstory/attribution/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
