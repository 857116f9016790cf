package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	grpccodes "google.golang.org/grpc/codes"
)

// Class groups codes by how callers are expected to react to them.
type Class uint8

const (
	ClassInternal Class = iota
	ClassValidation
	ClassConflict
	ClassNotFound
	ClassForbidden
	ClassProvider
	ClassReconciliationTimeout
)

func (c Class) String() string {
	return []string{
		"Internal",
		"Validation",
		"Conflict",
		"NotFound",
		"Forbidden",
		"Provider",
		"ReconciliationTimeout",
	}[c]
}

// Code is the type representing a namespace error code.
type Code[MT any] struct {
	Code     uint16
	Name     string
	Class    Class
	GrpcCode grpccodes.Code
}

// New creates a new error with the given code and the message.
func (c Code[MT]) New(msg string, args ...any) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: fmt.Errorf(msg, args...),
	}
}

// Wrap creates a new error with the given code and the cause error.
func (c Code[MT]) Wrap(cause error) TypedError[MT] {
	return &ErrorImpl[MT]{
		code:  c,
		cause: cause,
	}
}

func (c Code[MT]) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.Code)
}

// Is reports whether err carries this code anywhere in its chain.
func (c Code[MT]) Is(err error) bool {
	var typed Error
	if !stderrors.As(err, &typed) {
		return false
	}
	return typed.Code() == c.Code
}

type Error interface {
	error
	Log() *log.Entry
	Code() uint16
	CodeName() string
	Class() Class
	GrpcCode() grpccodes.Code
	Metadata() map[string]string
}

type TypedError[MT any] interface {
	Error
	WithMetadata(MT) TypedError[MT]
}

// ErrorImpl is the default concrete implementation of TypedError.
type ErrorImpl[MT any] struct {
	code     Code[MT]
	cause    error
	metadata MT
}

func (e *ErrorImpl[MT]) Log() *log.Entry {
	return log.WithField("name", e.code.Name).
		WithField("code", e.code.Code).
		WithField("metadata", e.metadata)
}

func (e *ErrorImpl[MT]) Metadata() map[string]string {
	metadata := make(map[string]string)
	buf, err := json.Marshal(e.metadata)
	if err != nil {
		return metadata
	}
	var genericMap map[string]any
	if err := json.Unmarshal(buf, &genericMap); err != nil {
		return metadata
	}
	for k, v := range genericMap {
		vStr := ""
		if v != nil {
			vStr = fmt.Sprintf("%v", v)
		}
		metadata[k] = vStr
	}
	return metadata
}

func (e *ErrorImpl[MT]) GrpcCode() grpccodes.Code {
	return e.code.GrpcCode
}

func (e *ErrorImpl[MT]) Code() uint16 {
	return e.code.Code
}

func (e *ErrorImpl[MT]) CodeName() string {
	return e.code.Name
}

func (e *ErrorImpl[MT]) Class() Class {
	return e.code.Class
}

func (e *ErrorImpl[MT]) Error() string {
	return fmt.Sprintf("%s: %s", e.code.String(), e.cause.Error())
}

func (e *ErrorImpl[MT]) Unwrap() error {
	return e.cause
}

func (e *ErrorImpl[MT]) WithMetadata(metadata MT) TypedError[MT] {
	e.metadata = metadata
	return e
}

// ClassOf returns the class of the first typed error found in the chain of err,
// defaulting to ClassInternal.
func ClassOf(err error) Class {
	var typed Error
	if stderrors.As(err, &typed) {
		return typed.Class()
	}
	return ClassInternal
}

type EntityMetadata struct {
	Entity string `json:"entity"`
	Id     string `json:"id"`
}

type FieldsMetadata struct {
	Fields []string `json:"fields"`
}

type TransitionMetadata struct {
	Entity string `json:"entity"`
	Id     string `json:"id"`
	From   string `json:"from"`
	To     string `json:"to"`
}

type PendingOperationMetadata struct {
	CustodyRecordId string `json:"custody_record_id"`
	OperationId     string `json:"operation_id"`
}

type MakerCheckerMetadata struct {
	OperationId string `json:"operation_id"`
	Actor       string `json:"actor"`
}

type OwnershipMetadata struct {
	AssetId   string `json:"asset_id"`
	OwnerId   string `json:"owner_id"`
	Owned     int64  `json:"owned"`
	Requested int64  `json:"requested"`
}

type BalanceMetadata struct {
	OwnerId   string `json:"owner_id"`
	Available string `json:"available"`
	Required  string `json:"required"`
}

type ProviderMetadata struct {
	TaskId    string `json:"task_id,omitempty"`
	Status    string `json:"status,omitempty"`
	Substatus string `json:"substatus,omitempty"`
	Transient bool   `json:"transient"`
}

type ReconciliationMetadata struct {
	OperationId string `json:"operation_id"`
	TaskId      string `json:"task_id"`
	Attempts    int    `json:"attempts"`
}

var INTERNAL_ERROR = Code[map[string]any]{0, "INTERNAL_ERROR", ClassInternal, grpccodes.Internal}

var VALIDATION = Code[FieldsMetadata]{1, "VALIDATION", ClassValidation, grpccodes.InvalidArgument}

var INVALID_STATUS_TRANSITION = Code[TransitionMetadata]{
	2,
	"INVALID_STATUS_TRANSITION",
	ClassValidation,
	grpccodes.InvalidArgument,
}

var NOT_FOUND = Code[EntityMetadata]{3, "NOT_FOUND", ClassNotFound, grpccodes.NotFound}

var DUPLICATE_ASSET = Code[EntityMetadata]{
	4,
	"DUPLICATE_ASSET",
	ClassConflict,
	grpccodes.AlreadyExists,
}

var PENDING_OPERATION_EXISTS = Code[PendingOperationMetadata]{
	5,
	"PENDING_OPERATION_EXISTS",
	ClassConflict,
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_OWNERSHIP = Code[OwnershipMetadata]{
	6,
	"INSUFFICIENT_OWNERSHIP",
	ClassConflict,
	grpccodes.FailedPrecondition,
}

var INSUFFICIENT_BALANCE = Code[BalanceMetadata]{
	7,
	"INSUFFICIENT_BALANCE",
	ClassConflict,
	grpccodes.FailedPrecondition,
}

var LISTING_OVERSOLD = Code[OwnershipMetadata]{
	8,
	"LISTING_OVERSOLD",
	ClassConflict,
	grpccodes.FailedPrecondition,
}

var MAKER_CHECKER_VIOLATION = Code[MakerCheckerMetadata]{
	9,
	"MAKER_CHECKER_VIOLATION",
	ClassForbidden,
	grpccodes.PermissionDenied,
}

var NOT_OWNER = Code[EntityMetadata]{10, "NOT_OWNER", ClassForbidden, grpccodes.PermissionDenied}

var PROVIDER_ERROR = Code[ProviderMetadata]{
	11,
	"PROVIDER_ERROR",
	ClassProvider,
	grpccodes.Unavailable,
}

var RECONCILIATION_TIMEOUT = Code[ReconciliationMetadata]{
	12,
	"RECONCILIATION_TIMEOUT",
	ClassReconciliationTimeout,
	grpccodes.DeadlineExceeded,
}

var INVALID_STATE = Code[EntityMetadata]{
	13,
	"INVALID_STATE",
	ClassConflict,
	grpccodes.FailedPrecondition,
}
