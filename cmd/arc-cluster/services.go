package main

import (
	"fmt"

	"github.com/gezibash/arc-cluster/internal/config"
	"github.com/gezibash/arc-cluster/internal/registry"
	"github.com/gezibash/arc-cluster/pkg/metadata"
)

// declaredService is the implementation registered for a service listed in
// the config file. It carries no behaviour beyond answering discovery.
type declaredService struct {
	Key metadata.Key
}

func buildRegistry(services []config.ServiceConfig) (*registry.Registry, error) {
	reg := registry.New()
	for i, s := range services {
		key, err := s.Key()
		if err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
		if _, err := reg.RegisterInstance(key, &declaredService{Key: key}); err != nil {
			return nil, fmt.Errorf("services[%d]: %w", i, err)
		}
	}
	return reg, nil
}
