package admin

import (
	"encoding/json"
	"fmt"
	"math"

	"google.golang.org/protobuf/types/known/structpb"

	one "github.com/frobware/go-one"
	"github.com/frobware/go-one/monitor"
)

// statsToProto encodes s through its JSON form so the Struct keys match
// `onectl stats -o json`.
func statsToProto(s monitor.Stats) (*structpb.Struct, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func protoToStats(st *structpb.Struct) (monitor.Stats, error) {
	var s monitor.Stats
	raw, err := json.Marshal(st.AsMap())
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return s, fmt.Errorf("decode stats: %w", err)
	}
	return s, nil
}

func specToProto(spec monitor.QueueSpec) *structpb.Struct {
	fields := map[string]*structpb.Value{
		"qid": structpb.NewNumberValue(float64(spec.QID)),
	}
	if spec.Name != "" {
		fields["name"] = structpb.NewStringValue(spec.Name)
	}
	if len(spec.Attach) > 0 {
		attach := make([]*structpb.Value, len(spec.Attach))
		for i, src := range spec.Attach {
			attach[i] = structpb.NewNumberValue(float64(src))
		}
		fields["attach"] = structpb.NewListValue(&structpb.ListValue{Values: attach})
	}
	return &structpb.Struct{Fields: fields}
}

func protoToSpec(st *structpb.Struct) (monitor.QueueSpec, error) {
	var spec monitor.QueueSpec
	for key, v := range st.GetFields() {
		switch key {
		case "qid":
			qid, err := qidValue(key, v)
			if err != nil {
				return spec, err
			}
			spec.QID = qid
		case "name":
			name, ok := v.GetKind().(*structpb.Value_StringValue)
			if !ok {
				return spec, fmt.Errorf("name: want string, got %T", v.GetKind())
			}
			spec.Name = name.StringValue
		case "attach":
			list, ok := v.GetKind().(*structpb.Value_ListValue)
			if !ok {
				return spec, fmt.Errorf("attach: want list, got %T", v.GetKind())
			}
			for i, item := range list.ListValue.GetValues() {
				src, err := qidValue(fmt.Sprintf("attach[%d]", i), item)
				if err != nil {
					return spec, err
				}
				if src == one.QIDNone {
					return spec, fmt.Errorf("attach[%d]: qid must be non-zero", i)
				}
				spec.Attach = append(spec.Attach, src)
			}
		default:
			return spec, fmt.Errorf("unknown field %q", key)
		}
	}
	return spec, nil
}

// qidFromProto returns the required qid field of st.
func qidFromProto(st *structpb.Struct) (one.QID, error) {
	v, ok := st.GetFields()["qid"]
	if !ok {
		return one.QIDNone, fmt.Errorf("qid: missing")
	}
	return qidValue("qid", v)
}

func qidValue(field string, v *structpb.Value) (one.QID, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return one.QIDNone, fmt.Errorf("%s: want number, got %T", field, v.GetKind())
	}
	f := n.NumberValue
	if f < 0 || f > math.MaxUint32 || f != math.Trunc(f) {
		return one.QIDNone, fmt.Errorf("%s: %v is not a queue id", field, f)
	}
	return one.QID(f), nil
}
