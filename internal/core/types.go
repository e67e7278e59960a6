package core

import "freezercore/pkg/domain"

type (
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Base               = domain.Base
	Container          = domain.Container
	Sample             = domain.Sample
	SampleKind         = domain.SampleKind
	SampleLineage      = domain.SampleLineage
	Individual         = domain.Individual
	Protocol           = domain.Protocol
	Process            = domain.Process
	ProcessBySample    = domain.ProcessBySample
	VolumeEvent        = domain.VolumeEvent
	Version            = domain.Version
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RuleViolationError = domain.RuleViolationError
	Transaction        = domain.Transaction
	TransactionView    = domain.TransactionView
	PersistentStore    = domain.PersistentStore
)

const (
	EntityContainer       = domain.EntityContainer
	EntitySample          = domain.EntitySample
	EntitySampleKind      = domain.EntitySampleKind
	EntitySampleLineage   = domain.EntitySampleLineage
	EntityIndividual      = domain.EntityIndividual
	EntityProtocol        = domain.EntityProtocol
	EntityProcess         = domain.EntityProcess
	EntityProcessBySample = domain.EntityProcessBySample
)
