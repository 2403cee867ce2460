// Package validate checks merged records. Problems are reported on the
// record and never block persistence.
package validate

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/JakeFAU/popup-crawler/internal/crawler"
)

const dateLayout = "2006-01-02"

// Validator runs the schema and semantic layers.
type Validator struct {
	schema *validator.Validate
}

// New builds a Validator whose paths use the JSON field names.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{schema: v}
}

// Validate returns the errors and warnings found on rec.
func (v *Validator) Validate(rec *crawler.Record) crawler.Validation {
	out := crawler.Validation{Errors: []string{}, Warnings: []string{}}
	if rec == nil {
		out.Errors = append(out.Errors, "schema::record is missing")
		return out
	}
	out.Errors = append(out.Errors, v.schemaErrors(rec)...)
	checkDuration(rec.Duration, &out)
	checkGeo(rec.Geo, &out)
	checkLinks(rec.Links, &out)
	return out
}

// Apply validates rec and stores the result in rec.Meta.Validation.
func (v *Validator) Apply(rec *crawler.Record) {
	res := v.Validate(rec)
	rec.Meta.Validation = &res
}

func (v *Validator) schemaErrors(rec *crawler.Record) []string {
	err := v.schema.Struct(rec)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{fmt.Sprintf("schema::%v", err)}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, fmt.Sprintf("schema:%s:%s", fieldPath(fe.Namespace()), message(fe)))
	}
	return out
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}

func checkDuration(d crawler.Duration, out *crawler.Validation) {
	start, startOK := parseDate(d.Start, "start", out)
	end, endOK := parseDate(d.End, "end", out)
	if startOK && endOK && end.Before(start) {
		out.Errors = append(out.Errors, "duration:end_before_start")
	}
}

func parseDate(raw, name string, out *crawler.Validation) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		out.Warnings = append(out.Warnings, "duration:"+name+"_parse_failed")
		return time.Time{}, false
	}
	return t, true
}

func checkGeo(g crawler.Geo, out *crawler.Validation) {
	checkCoord(g.Lat, 90, "lat", out)
	checkCoord(g.Lon, 180, "lon", out)
}

func checkCoord(v *float64, limit float64, name string, out *crawler.Validation) {
	if v == nil {
		return
	}
	switch {
	case math.IsNaN(*v) || math.IsInf(*v, 0):
		out.Errors = append(out.Errors, "geo:"+name+"_invalid")
	case *v < -limit || *v > limit:
		out.Errors = append(out.Errors, "geo:"+name+"_out_of_range")
	}
}

func checkLinks(links []crawler.Link, out *crawler.Validation) {
	for i, l := range links {
		if l.Href == "" {
			continue
		}
		lower := strings.ToLower(l.Href)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			out.Warnings = append(out.Warnings, fmt.Sprintf("links[%d]:non_http_scheme", i))
		}
	}
}
