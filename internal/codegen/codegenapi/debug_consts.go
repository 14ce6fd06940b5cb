package codegenapi

// These consts gate the debugging output scattered across the code generator so that
// all of them can be found and flipped in one place.

// ----- Debug logging -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	SSALoggingEnabled      = false
	EGraphLoggingEnabled   = false
	RegAllocLoggingEnabled = false
)

// ----- Output prints -----
// These consts must be disabled by default. Enable them only when debugging.

const (
	PrintSSA                       = false
	PrintOptimizedSSA              = false
	PrintBlockLaidOutSSA           = false
	PrintSSAToBackendIRLowering    = false
	PrintRegisterAllocated         = false
	PrintFinalizedMachineCode      = false
	PrintMachineCodeHexPerFunction = false
)

// ----- Validations -----
// These consts must be enabled by default until the pipeline has been fuzzed long enough.

const (
	RegAllocValidationEnabled = true
	SSAValidationEnabled      = true
)
