package errors

import (
	"errors"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"google.golang.org/api/googleapi"
)

type ErrorDump struct {
	TopMessage string `json:"top_message"`
	Code       Code   `json:"code,omitempty"`

	Chain []string `json:"chain,omitempty"`

	ClickHouseCode    int32  `json:"clickhouse_code,omitempty"`
	ClickHouseName    string `json:"clickhouse_name,omitempty"`
	ClickHouseMessage string `json:"clickhouse_message,omitempty"`

	GoogleAPICode    int    `json:"googleapi_code,omitempty"`
	GoogleAPIMessage string `json:"googleapi_message,omitempty"`
}

// Dump flattens an error chain plus any store-specific detail for structured logs.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}

	d := ErrorDump{
		TopMessage: err.Error(),
	}

	if te := As(err); te != nil {
		d.Code = te.Code()
	}

	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T: %v", e, e))
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		d.ClickHouseCode = chErr.Code
		d.ClickHouseName = chErr.Name
		d.ClickHouseMessage = chErr.Message
		return d
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		d.GoogleAPICode = apiErr.Code
		d.GoogleAPIMessage = apiErr.Message
		return d
	}

	return d
}

// Fields renders the dump as logger fields.
func (d ErrorDump) Fields() map[string]any {
	fields := map[string]any{
		"error":       d.TopMessage,
		"error_chain": d.Chain,
	}
	if d.Code != "" {
		fields["error_code"] = string(d.Code)
	}
	if d.ClickHouseCode != 0 {
		fields["clickhouse_code"] = d.ClickHouseCode
		fields["clickhouse_name"] = d.ClickHouseName
		fields["clickhouse_message"] = d.ClickHouseMessage
	}
	if d.GoogleAPICode != 0 {
		fields["googleapi_code"] = d.GoogleAPICode
		fields["googleapi_message"] = d.GoogleAPIMessage
	}
	return fields
}
