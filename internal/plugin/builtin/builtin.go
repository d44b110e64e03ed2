// Package builtin lists the provider plugins shipped with the service.
package builtin

import (
	"github.com/frahmantamala/payment-orchestration/internal/plugin"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/dummy"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/kashier"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/offline"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/paymob"
	"github.com/frahmantamala/payment-orchestration/internal/plugin/paypal"
)

func Definitions() []plugin.Definition {
	return []plugin.Definition{
		dummy.Definition(),
		offline.Definition(),
		paymob.Definition(),
		kashier.Definition(),
		paypal.Definition(),
	}
}

// NewRegistry returns a registry holding every shipped plugin.
func NewRegistry() (*plugin.Registry, error) {
	r := plugin.NewRegistry()
	if err := r.RegisterDefinitions(Definitions()...); err != nil {
		return nil, err
	}
	return r, nil
}
