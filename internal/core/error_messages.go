package core

// error_messages.go maps technical errors to user-facing messages with a
// support code.
//
// Codes are grouped by category:
//
//	SCH001 - Invalid sample: the sample is empty or has no fields
//	SCH002 - Schema not found
//	TPL001 - Template not found
//	TPL002 - Invalid rule in a template
//	REC001 - Malformed record
//	VOC001 - Unknown industry
//	STO001 - Storage failure
//	BAT001 - Too many concurrent batches
//	FILE001-FILE004 - Upload file problems
//	REQ001-REQ002 - Request cancelled or timed out
//	RATE001 - Rate limited
//	ERR000 - Unknown error; check the logs for the technical error
//
// Sentinel errors are matched with errors.Is first, in table order. Errors
// without a sentinel fall back to case-insensitive substring patterns; the
// first match wins.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JonMunkholm/categorizer/internal/adapter"
	"github.com/JonMunkholm/categorizer/internal/record"
	"github.com/JonMunkholm/categorizer/internal/schema"
	"github.com/JonMunkholm/categorizer/internal/store"
	"github.com/JonMunkholm/categorizer/internal/taxonomy"
	"github.com/JonMunkholm/categorizer/internal/vocab"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

// sentinelMessages is checked before errorPatterns. Not-found sentinels come
// before the generic store failure since they wrap store errors.
var sentinelMessages = []sentinelMessage{
	{
		target: schema.ErrInvalidInput,
		msg: UserMessage{
			Message: "The sample is empty or has no fields",
			Action:  "Provide at least one record with named fields",
			Code:    "SCH001",
		},
	},
	{
		target: ErrSchemaNotFound,
		msg: UserMessage{
			Message: "Schema not found",
			Action:  "Recognize the source again to rebuild its schema",
			Code:    "SCH002",
		},
	},
	{
		target: ErrTemplateNotFound,
		msg: UserMessage{
			Message: "Template not found",
			Action:  "Generate a template for this source first",
			Code:    "TPL001",
		},
	},
	{
		target: taxonomy.ErrInvalidRule,
		msg: UserMessage{
			Message: "The template contains an invalid rule",
			Action:  "Regenerate the template or fix the rule payload",
			Code:    "TPL002",
		},
	},
	{
		target: adapter.ErrMalformedRecord,
		msg: UserMessage{
			Message: "The record has no usable content",
			Action:  "Check the record for empty or non-object entries",
			Code:    "REC001",
		},
	},
	{
		target: record.ErrMalformed,
		msg: UserMessage{
			Message: "The record has no usable content",
			Action:  "Check the record for empty or non-object entries",
			Code:    "REC001",
		},
	},
	{
		target: vocab.ErrUnknownIndustry,
		msg: UserMessage{
			Message: "Unknown industry",
			Action:  "Use one of the industries listed by /api/stats",
			Code:    "VOC001",
		},
	},
	{
		target: ErrTooManyBatches,
		msg: UserMessage{
			Message: "System is busy processing other batches",
			Action:  "Please wait a moment and try again",
			Code:    "BAT001",
		},
	},
}

// storeFailure is returned for persistence errors other than not-found.
var storeFailure = UserMessage{
	Message: "Storage is unavailable",
	Action:  "Please try again in a few moments",
	Code:    "STO001",
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error patterns (case-insensitive) to user messages.
// More specific patterns must come before general ones.
var errorPatterns = []errorPattern{
	// File errors (FILE001-FILE004)
	{
		pattern: "file too large",
		msg: UserMessage{
			Message: "File exceeds maximum size limit",
			Action:  "Split the file into smaller batches",
			Code:    "FILE001",
		},
	},
	{
		pattern: "unsupported file type",
		msg: UserMessage{
			Message: "File type is not supported",
			Action:  "Upload a CSV, XLSX or JSON file",
			Code:    "FILE002",
		},
	},
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a file to upload",
			Code:    "FILE003",
		},
	},
	{
		pattern: "empty file",
		msg: UserMessage{
			Message: "The uploaded file has no records",
			Action:  "Please upload a file with a header and data rows",
			Code:    "FILE004",
		},
	},

	// Request errors (REQ001-REQ004)
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "REQ001",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Send a smaller batch or try again later",
			Code:    "REQ002",
		},
	},
	{
		pattern: "invalid request",
		msg: UserMessage{
			Message: "The request body could not be read",
			Action:  "Check that the body is valid JSON in the documented shape",
			Code:    "REQ003",
		},
	},
	{
		pattern: "too many records",
		msg: UserMessage{
			Message: "The batch has too many records",
			Action:  "Split the records into smaller batches",
			Code:    "REQ004",
		},
	},

	// Rate limiting (RATE001)
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts a technical error to a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	for _, sm := range sentinelMessages {
		if errors.Is(err, sm.target) {
			return sm.msg
		}
	}

	var serr *store.Error
	if errors.As(err, &serr) {
		return storeFailure
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
