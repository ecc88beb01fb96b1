package cli

import (
	"reflect"

	"github.com/alecthomas/kong"
)

// qidMapper creates a Kong mapper for QID.
func qidMapper() kong.MapperFunc {
	return func(ctx *kong.DecodeContext, target reflect.Value) error {
		var s string
		if err := ctx.Scan.PopValueInto("qid", &s); err != nil {
			return err
		}
		qid, err := ParseQID(s)
		if err != nil {
			return err
		}
		target.Set(reflect.ValueOf(qid))
		return nil
	}
}
