package lockdown

import (
	"errors"
	"fmt"
)

// Code is the closed lockdown error taxonomy, mirroring the device's
// own status codes.
type Code int

// Lockdown error codes.
const (
	CodeSuccess                Code = 0
	CodeInvalidArg             Code = -1
	CodeInvalidConf            Code = -2
	CodePlistError             Code = -3
	CodePairingFailed          Code = -4
	CodeSSLError               Code = -5
	CodeDictError              Code = -6
	CodeReceiveTimeout         Code = -7
	CodeMuxError               Code = -8
	CodeNoRunningSession       Code = -9
	CodeInvalidResponse        Code = -10
	CodeMissingKey             Code = -11
	CodeMissingValue           Code = -12
	CodeGetProhibited          Code = -13
	CodeSetProhibited          Code = -14
	CodeRemoveProhibited       Code = -15
	CodeImmutableValue         Code = -16
	CodePasswordProtected      Code = -17
	CodeUserDeniedPairing      Code = -18
	CodePairingDialogPending   Code = -19
	CodeMissingHostID          Code = -20
	CodeInvalidHostID          Code = -21
	CodeSessionActive          Code = -22
	CodeSessionInactive        Code = -23
	CodeMissingSessionID       Code = -24
	CodeInvalidSessionID       Code = -25
	CodeMissingService         Code = -26
	CodeInvalidService         Code = -27
	CodeServiceLimit           Code = -28
	CodeMissingPairRecord      Code = -29
	CodeSavePairRecordFailed   Code = -30
	CodeInvalidPairRecord      Code = -31
	CodeInvalidActivationRec   Code = -32
	CodeMissingActivationRec   Code = -33
	CodeServiceProhibited      Code = -34
	CodeEscrowLocked           Code = -35
	CodePairingProhibited      Code = -36
	CodeFMiPProtected          Code = -37
	CodeMCProtected            Code = -38
	CodeMCChallengeRequired    Code = -39
	CodeUnknown                Code = -256
)

// Synthetic local errors.
var (
	// ErrDeallocated guards use of a closed client before any device
	// round-trip is attempted.
	ErrDeallocated = errors.New("lockdown: client deallocated")
)

// codeNames maps codes to their canonical device error strings.
var codeNames = map[Code]string{
	CodeSuccess:              "Success",
	CodeInvalidArg:           "InvalidArg",
	CodeInvalidConf:          "InvalidConf",
	CodePlistError:           "PlistError",
	CodePairingFailed:        "PairingFailed",
	CodeSSLError:             "SslError",
	CodeDictError:            "DictError",
	CodeReceiveTimeout:       "ReceiveTimeout",
	CodeMuxError:             "MuxError",
	CodeNoRunningSession:     "NoRunningSession",
	CodeInvalidResponse:      "InvalidResponse",
	CodeMissingKey:           "MissingKey",
	CodeMissingValue:         "MissingValue",
	CodeGetProhibited:        "GetProhibited",
	CodeSetProhibited:        "SetProhibited",
	CodeRemoveProhibited:     "RemoveProhibited",
	CodeImmutableValue:       "ImmutableValue",
	CodePasswordProtected:    "PasswordProtected",
	CodeUserDeniedPairing:    "UserDeniedPairing",
	CodePairingDialogPending: "PairingDialogResponsePending",
	CodeMissingHostID:        "MissingHostID",
	CodeInvalidHostID:        "InvalidHostID",
	CodeSessionActive:        "SessionActive",
	CodeSessionInactive:      "SessionInactive",
	CodeMissingSessionID:     "MissingSessionID",
	CodeInvalidSessionID:     "InvalidSessionID",
	CodeMissingService:       "MissingService",
	CodeInvalidService:       "InvalidService",
	CodeServiceLimit:         "ServiceLimit",
	CodeMissingPairRecord:    "MissingPairRecord",
	CodeSavePairRecordFailed: "SavePairRecordFailed",
	CodeInvalidPairRecord:    "InvalidPairRecord",
	CodeInvalidActivationRec: "InvalidActivationRecord",
	CodeMissingActivationRec: "MissingActivationRecord",
	CodeServiceProhibited:    "ServiceProhibited",
	CodeEscrowLocked:         "EscrowLocked",
	CodePairingProhibited:    "PairingProhibitedOverThisConnection",
	CodeFMiPProtected:        "FMiPProtected",
	CodeMCProtected:          "MCProtected",
	CodeMCChallengeRequired:  "MCChallengeRequired",
	CodeUnknown:              "UnknownError",
}

// codesByName is the reverse lookup used when mapping device responses.
var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for code, name := range codeNames {
		m[name] = code
	}
	return m
}()

// Error implements the error interface.
func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return fmt.Sprintf("lockdown: %s (%d)", name, int(c))
	}
	return fmt.Sprintf("lockdown: error %d", int(c))
}

// DeviceError is an error string reported by the device, mapped into
// the taxonomy. Unrecognized strings map to CodeUnknown with the raw
// name preserved.
type DeviceError struct {
	Code Code
	Name string
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	if e.Code == CodeUnknown && e.Name != "" {
		return fmt.Sprintf("lockdown: UnknownError (%s)", e.Name)
	}
	return e.Code.Error()
}

// Unwrap lets errors.Is match against the taxonomy code.
func (e *DeviceError) Unwrap() error { return e.Code }

// deviceError maps a device error string to a DeviceError.
func deviceError(name string) *DeviceError {
	if code, ok := codesByName[name]; ok {
		return &DeviceError{Code: code, Name: name}
	}
	return &DeviceError{Code: CodeUnknown, Name: name}
}
