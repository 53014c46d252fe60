package report

import (
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name      string
		primary   Fields
		secondary Fields
		want      Fields
	}{
		{
			name:      "primary values win",
			primary:   Fields{"blood_pressure": "120/80"},
			secondary: Fields{"blood_pressure": "140/90"},
			want:      Fields{"blood_pressure": "120/80"},
		},
		{
			name:      "empty primary filled",
			primary:   Fields{"blood_pressure": "120/80", "cholesterol": ""},
			secondary: Fields{"cholesterol": "200", "glucose": "100"},
			want:      Fields{"blood_pressure": "120/80", "cholesterol": "200", "glucose": "100"},
		},
		{
			name:      "nil and empty collections are replaced",
			primary:   Fields{"a": nil, "b": []any{}, "c": map[string]any{}},
			secondary: Fields{"a": 1, "b": []any{2}, "c": map[string]any{"k": "v"}},
			want:      Fields{"a": 1, "b": []any{2}, "c": map[string]any{"k": "v"}},
		},
		{
			name:      "zero is kept",
			primary:   Fields{"heart_rate": 0},
			secondary: Fields{"heart_rate": 72},
			want:      Fields{"heart_rate": 0},
		},
		{
			name:      "nil inputs",
			primary:   nil,
			secondary: nil,
			want:      Fields{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.primary, tt.secondary)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Merge() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	primary := Fields{"cholesterol": ""}
	secondary := Fields{"cholesterol": 210}
	_ = Merge(primary, secondary)
	if primary["cholesterol"] != "" {
		t.Fatalf("primary mutated: %#v", primary)
	}
}

func TestMergeAllOrder(t *testing.T) {
	pages := []Fields{
		{"blood_pressure": "118/76"},
		{"blood_pressure": "150/95", "glucose": 99},
		{"glucose": 130, "bmi": 24.1},
	}
	got := MergeAll(pages...)
	want := Fields{"blood_pressure": "118/76", "glucose": 99, "bmi": 24.1}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("MergeAll() = %#v, want %#v", got, want)
	}
}
