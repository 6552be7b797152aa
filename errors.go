package unitrt

import (
	"errors"
)

// Runtime errors
var (
	// Configuration errors
	ErrConfigLoad            = errors.New("failed to load startup configuration")
	ErrPropertyPrefixUnbound = errors.New("unit configuration name is not bound to a property prefix")

	// Definition errors
	ErrDuplicateBeanName       = errors.New("duplicate bean name")
	ErrDuplicateProvider       = errors.New("duplicate provider for produced type")
	ErrDuplicatePropertyPrefix = errors.New("duplicate property prefix")
	ErrMissingPropertyPrefix   = errors.New("property-bound type has no prefix")
	ErrMultiplePrimary         = errors.New("more than one primary candidate")
	ErrFieldNotEligible        = errors.New("field is not eligible for value binding")
	ErrGuardCompile            = errors.New("listener guard does not compile")
	ErrNotAssignable           = errors.New("type is not assignable to abstract type")
	ErrDuplicateUnitTag        = errors.New("duplicate unit tag")
	ErrInvalidRegistration     = errors.New("invalid registration")
	ErrInvalidFilter           = errors.New("invalid scan filter pattern")

	// Binding errors
	ErrContextNotInitialized = errors.New("context not initialized")
	ErrContextAlreadyBound   = errors.New("context already bound")
	ErrContextNotRefreshed   = errors.New("context not refreshed")
	ErrContextClosed         = errors.New("context closed")

	// Lookup errors
	ErrBeanNotFound  = errors.New("bean not found")
	ErrBeanWrongType = errors.New("bean has unexpected type")

	// Event errors
	ErrMulticasterNotInitialized = errors.New("event multicaster not initialized")
	ErrEventEncode               = errors.New("failed to encode event")
	ErrEventDecode               = errors.New("failed to decode event")

	// Lifecycle errors
	ErrUnitDeployFailed    = errors.New("unit deployment failed")
	ErrShutdownTimeout     = errors.New("shutdown exceeded its ceiling")
	ErrOrchestratorNotIdle = errors.New("orchestrator is not idle")
	ErrUnitNotFound        = errors.New("unit not found")
	ErrNotAUnit            = errors.New("bean does not implement Unit")

	// Application errors
	ErrApplicationNotInitialized = errors.New("application not initialized")
	ErrApplicationStarted        = errors.New("application already started")
	ErrLoggerNotSet              = errors.New("logger not set")
)
