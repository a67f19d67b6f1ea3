package afc

import "fmt"

// Status is the closed AFC result taxonomy reported by the device.
// Non-zero statuses implement error.
type Status uint64

// AFC status codes.
const (
	StatusSuccess             Status = 0
	StatusUnknownError        Status = 1
	StatusOpHeaderInvalid     Status = 2
	StatusNoResources         Status = 3
	StatusReadError           Status = 4
	StatusWriteError          Status = 5
	StatusUnknownPacketType   Status = 6
	StatusInvalidArg          Status = 7
	StatusObjectNotFound      Status = 8
	StatusObjectIsDir         Status = 9
	StatusPermDenied          Status = 10
	StatusServiceNotConnected Status = 11
	StatusOpTimeout           Status = 12
	StatusTooMuchData         Status = 13
	StatusEndOfData           Status = 14
	StatusOpNotSupported      Status = 15
	StatusObjectExists        Status = 16
	StatusObjectBusy          Status = 17
	StatusNoSpaceLeft         Status = 18
	StatusOpWouldBlock        Status = 19
	StatusIOError             Status = 20
	StatusOpInterrupted       Status = 21
	StatusOpInProgress        Status = 22
	StatusInternalError       Status = 23
	StatusMuxError            Status = 30
	StatusNoMem               Status = 31
	StatusNotEnoughData       Status = 32
	StatusDirNotEmpty         Status = 33
)

var statusNames = map[Status]string{
	StatusSuccess:             "success",
	StatusUnknownError:        "unknown error",
	StatusOpHeaderInvalid:     "operation header invalid",
	StatusNoResources:         "no resources",
	StatusReadError:           "read error",
	StatusWriteError:          "write error",
	StatusUnknownPacketType:   "unknown packet type",
	StatusInvalidArg:          "invalid argument",
	StatusObjectNotFound:      "object not found",
	StatusObjectIsDir:         "object is a directory",
	StatusPermDenied:          "permission denied",
	StatusServiceNotConnected: "service not connected",
	StatusOpTimeout:           "operation timeout",
	StatusTooMuchData:         "too much data",
	StatusEndOfData:           "end of data",
	StatusOpNotSupported:      "operation not supported",
	StatusObjectExists:        "object exists",
	StatusObjectBusy:          "object busy",
	StatusNoSpaceLeft:         "no space left",
	StatusOpWouldBlock:        "operation would block",
	StatusIOError:             "io error",
	StatusOpInterrupted:       "operation interrupted",
	StatusOpInProgress:        "operation in progress",
	StatusInternalError:       "internal error",
	StatusMuxError:            "mux error",
	StatusNoMem:               "no memory",
	StatusNotEnoughData:       "not enough data",
	StatusDirNotEmpty:         "directory not empty",
}

// Error implements the error interface. Codes outside the taxonomy
// print numerically and still compare by value.
func (s Status) Error() string {
	if name, ok := statusNames[s]; ok {
		return fmt.Sprintf("afc: %s (%d)", name, uint64(s))
	}
	return fmt.Sprintf("afc: unknown status %d", uint64(s))
}
