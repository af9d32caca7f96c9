package extract

import "testing"

func TestParseResult(t *testing.T) {
	reply := "```json\n{\"make\": \"Toyota\", \"model\": \"Camry\", \"year\": 2015, \"price\": 5000000, \"valid\": true, \"primary_media_index\": 1, \"missing_fields\": [\"mileage\"]}\n```"

	result, err := parseResult(reply)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.Make != "Toyota" || result.Model != "Camry" || result.Year != 2015 {
		t.Errorf("Unexpected vehicle fields: %+v", result)
	}
	if result.Price != 5000000 || !result.Valid || result.PrimaryMediaIndex != 1 {
		t.Errorf("Unexpected result fields: %+v", result)
	}
	if len(result.MissingFields) != 1 || result.MissingFields[0] != "mileage" {
		t.Errorf("Unexpected missing fields: %v", result.MissingFields)
	}
}

func TestParseResultToleratesProse(t *testing.T) {
	reply := `Here is the listing: {"valid": false} Hope that helps.`

	result, err := parseResult(reply)
	if err != nil {
		t.Fatalf("parseResult failed: %v", err)
	}
	if result.Valid {
		t.Error("Expected invalid result")
	}
}

func TestParseResultRejectsNonJSON(t *testing.T) {
	for _, reply := range []string{"", "no json here", "{broken"} {
		if _, err := parseResult(reply); err == nil {
			t.Errorf("Expected error for %q", reply)
		}
	}
}

func TestMediaTypeForPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/x/a.jpg", "image/jpeg"},
		{"/x/a.jpeg", "image/jpeg"},
		{"/x/a.png", "image/png"},
		{"/x/a.webp", "image/webp"},
		{"/x/a.bin", "image/jpeg"},
	}
	for _, tt := range tests {
		if got := mediaTypeForPath(tt.path); got != tt.want {
			t.Errorf("mediaTypeForPath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
