package env

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	pkgstrings "github.com/potatman/EventHorizon-sub000/pkg/strings"
)

type (
	availableTypes interface {
		bool | int | int64 | uint | float64 | string | time.Time | time.Duration | uuid.UUID
	}

	availableOptionalTypes interface {
		*bool | *int | *int64 | *uint | *float64 | *string | *time.Time | *time.Duration | *uuid.UUID
	}
)

func Must[T any](val T, err error) T {
	if err != nil {
		panic(fmt.Errorf("parse environment: %w", err))
	}
	return val
}

func Parse[T availableTypes](key string) (T, error) {
	var blank T
	str, ok := os.LookupEnv(key)
	if !ok {
		return blank, notFoundError(key, blank)
	}

	v, err := pkgstrings.ParseTypedValue[T](str)
	if err != nil {
		return blank, invalidValueError(key, blank, err)
	}
	return v, nil
}

// ParseOptional returns nil when the variable is not set.
func ParseOptional[T availableOptionalTypes](key string) (T, error) {
	var blank T
	str, ok := os.LookupEnv(key)
	if !ok || str == "" {
		return blank, nil
	}

	switch any(blank).(type) {
	case *bool:
		return parseOptional[bool, T](key, str)
	case *int:
		return parseOptional[int, T](key, str)
	case *int64:
		return parseOptional[int64, T](key, str)
	case *uint:
		return parseOptional[uint, T](key, str)
	case *float64:
		return parseOptional[float64, T](key, str)
	case *string:
		return parseOptional[string, T](key, str)
	case *time.Time:
		return parseOptional[time.Time, T](key, str)
	case *time.Duration:
		return parseOptional[time.Duration, T](key, str)
	case *uuid.UUID:
		return parseOptional[uuid.UUID, T](key, str)
	default:
		return blank, fmt.Errorf("env %s: unsupported type %T", key, blank)
	}
}

func ParseList[T availableTypes](key, delimiter string) ([]T, error) {
	str, ok := os.LookupEnv(key)
	if !ok {
		return nil, notFoundError(key, []T(nil))
	}

	strList := strings.Split(str, delimiter)
	result := make([]T, 0, len(strList))
	for _, item := range strList {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		v, err := pkgstrings.ParseTypedValue[T](item)
		if err != nil {
			return nil, invalidValueError(key, result, err)
		}
		result = append(result, v)
	}

	return result, nil
}

func parseOptional[V availableTypes, T any](key, str string) (T, error) {
	var blank T
	v, err := pkgstrings.ParseTypedValue[V](str)
	if err != nil {
		return blank, invalidValueError(key, v, err)
	}

	return any(&v).(T), nil
}

func notFoundError(key string, varType any) error {
	return fmt.Errorf("env %s with type %T not found", key, varType)
}

func invalidValueError(key string, varType any, err error) error {
	return fmt.Errorf("env %s with type %T has invalid value: %w", key, varType, err)
}
