package handler

// DI for all handlers alike.

import (
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yumyai/edna/pkg/handler/request"
	"github.com/yumyai/edna/pkg/pipeline"
)

type AppContext struct {
	Service  *pipeline.Service
	Validate *validator.Validate
	Log      *zap.Logger
	// RefreshSeconds is how often job pages reload while a job runs.
	RefreshSeconds int
}

func NewAppContext(svc *pipeline.Service, log *zap.Logger) *AppContext {
	if log == nil {
		log = zap.NewNop()
	}
	return &AppContext{
		Service:        svc,
		Validate:       request.NewValidator(),
		Log:            log,
		RefreshSeconds: 5,
	}
}
