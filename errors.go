package kdbx

import (
	"context"
	"errors"
	"fmt"
)

// ParserCode classifies why reading or writing a database failed.
type ParserCode int

const (
	Success ParserCode = iota
	SignatureInvalid
	SignatureKP1
	SignatureKP2PR
	Version
	HeaderFieldUnknown
	HeaderFieldDuplicate
	HeaderDataSize
	HeaderDataUnknown
	HeaderMissing
	BadVariantDictionary
	BadHeaderHash
	CouldNotDecrypt
	DataIntegrityProblem
	CouldNotInflate
	MalformedXML
	CouldNotParseXML
	CouldNotDeserialize
	OperationCancelled
	UnableToReadFile
)

var codeNames = [...]string{
	Success:              "success",
	SignatureInvalid:     "not a KDBX file",
	SignatureKP1:         "KeePass 1 databases are not supported",
	SignatureKP2PR:       "KeePass 2 pre-release databases are not supported",
	Version:              "unsupported file version",
	HeaderFieldUnknown:   "unknown header field",
	HeaderFieldDuplicate: "duplicate header field",
	HeaderDataSize:       "header field has the wrong size",
	HeaderDataUnknown:    "header field has an unrecognized value",
	HeaderMissing:        "required header field missing",
	BadVariantDictionary: "malformed variant dictionary",
	BadHeaderHash:        "header hash mismatch",
	CouldNotDecrypt:      "could not decrypt: wrong credentials or corrupt database",
	DataIntegrityProblem: "block integrity check failed",
	CouldNotInflate:      "could not decompress database body",
	MalformedXML:         "malformed XML",
	CouldNotParseXML:     "XML is not a KeePass document",
	CouldNotDeserialize:  "could not deserialize XML value",
	OperationCancelled:   "operation cancelled",
	UnableToReadFile:     "unable to read file",
}

func (c ParserCode) String() string {
	if c >= 0 && int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("ParserCode(%d)", int(c))
}

// Error is the error type returned by Reader and Writer. Detail names the
// offending field or value when there is one.
type Error struct {
	Code   ParserCode
	Detail string
	Err    error
}

func newError(code ParserCode, detail string, err error) *Error {
	return &Error{Code: code, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := "kdbx: " + e.Code.String()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same code, so
// errors.Is(err, ErrCouldNotDecrypt) works regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// Errors
var (
	ErrSignatureInvalid     = &Error{Code: SignatureInvalid}
	ErrSignatureKP1         = &Error{Code: SignatureKP1}
	ErrSignatureKP2PR       = &Error{Code: SignatureKP2PR}
	ErrVersion              = &Error{Code: Version}
	ErrHeaderFieldUnknown   = &Error{Code: HeaderFieldUnknown}
	ErrHeaderFieldDuplicate = &Error{Code: HeaderFieldDuplicate}
	ErrHeaderDataSize       = &Error{Code: HeaderDataSize}
	ErrHeaderDataUnknown    = &Error{Code: HeaderDataUnknown}
	ErrHeaderMissing        = &Error{Code: HeaderMissing}
	ErrBadVariantDictionary = &Error{Code: BadVariantDictionary}
	ErrBadHeaderHash        = &Error{Code: BadHeaderHash}
	ErrCouldNotDecrypt      = &Error{Code: CouldNotDecrypt}
	ErrDataIntegrityProblem = &Error{Code: DataIntegrityProblem}
	ErrCouldNotInflate      = &Error{Code: CouldNotInflate}
	ErrMalformedXML         = &Error{Code: MalformedXML}
	ErrCouldNotParseXML     = &Error{Code: CouldNotParseXML}
	ErrCouldNotDeserialize  = &Error{Code: CouldNotDeserialize}
	ErrOperationCancelled   = &Error{Code: OperationCancelled}
	ErrUnableToReadFile     = &Error{Code: UnableToReadFile}
)

// CodeOf returns the ParserCode carried by err. Errors that did not come
// from this package map to UnableToReadFile, or OperationCancelled for
// context errors.
func CodeOf(err error) ParserCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	if isCancellation(err) {
		return OperationCancelled
	}
	return UnableToReadFile
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// ioError classifies a read failure, keeping cancellation distinct.
func ioError(detail string, err error) error {
	if isCancellation(err) {
		return newError(OperationCancelled, "", err)
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return newError(UnableToReadFile, detail, err)
}
