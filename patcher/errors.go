package patcher

import (
	"errors"

	"github.com/hashicorp/errwrap"
)

// ErrorCode classifies a patch failure at the API boundary.
type ErrorCode int

// Patch failure classes
const (
	NoError ErrorCode = iota
	OnlyZipSupported
	OnlyBootImageSupported
	ArchiveReadOpenError
	ArchiveReadHeaderError
	ArchiveReadDataError
	ArchiveWriteOpenError
	ArchiveWriteDataError
	BootImageParseError
	BootImageCreateError
	CpioError
	RamdiskTransformError
	FileOpenError
	FileReadError
	FileWriteError
	Cancelled
	InternalError
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "no error"
	case OnlyZipSupported:
		return "only ZIP files are supported"
	case OnlyBootImageSupported:
		return "only boot images are supported"
	case ArchiveReadOpenError:
		return "failed to open archive for reading"
	case ArchiveReadHeaderError:
		return "failed to read archive entry header"
	case ArchiveReadDataError:
		return "failed to read archive entry data"
	case ArchiveWriteOpenError:
		return "failed to open archive for writing"
	case ArchiveWriteDataError:
		return "failed to write archive entry data"
	case BootImageParseError:
		return "failed to parse boot image"
	case BootImageCreateError:
		return "failed to create boot image"
	case CpioError:
		return "failed to process cpio archive"
	case RamdiskTransformError:
		return "failed to transform ramdisk"
	case FileOpenError:
		return "failed to open file"
	case FileReadError:
		return "failed to read file"
	case FileWriteError:
		return "failed to write file"
	case Cancelled:
		return "patching was cancelled"
	case InternalError:
		return "internal error"
	default:
		return "unknown error"
	}
}

// PatchError pairs a failure class with its cause.
type PatchError struct {
	Code ErrorCode
	Err  error
}

func (e *PatchError) Error() string {
	if e.Err == nil {
		return e.Code.String()
	}
	return e.Code.String() + ": " + e.Err.Error()
}

func (e *PatchError) Unwrap() error {
	return e.Err
}

// newErr wraps err with the failure class and a description of the
// operation that failed.
func newErr(code ErrorCode, err error, msg string) *PatchError {
	if err != nil && msg != "" {
		err = errwrap.Wrap(errors.New("failed "+msg), err)
	} else if err == nil && msg != "" {
		err = errors.New("failed " + msg)
	}
	return &PatchError{Code: code, Err: err}
}

// CodeOf extracts the failure class from an error returned by this
// package. Errors from elsewhere report InternalError.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return NoError
	}
	var pe *PatchError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return InternalError
}
