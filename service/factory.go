package service

import (
	"github.com/khaledhikmat/df-go/service/config"
	"github.com/khaledhikmat/df-go/service/data"
	"github.com/khaledhikmat/df-go/service/inference"
	"github.com/khaledhikmat/df-go/service/orphan"
	"github.com/khaledhikmat/df-go/service/probe"
	"github.com/khaledhikmat/df-go/service/storage"
)

// ServicesFactory carries the services a mode processor needs. Each can be
// swapped for a different implementation, which is how tests inject fakes.
type ServicesFactory struct {
	CfgSvc       config.IService
	DataSvc      data.IService
	StorageSvc   storage.IService
	OrphanSvc    orphan.IService
	InferenceSvc inference.IService
	ProbeSvc     probe.IService
}
