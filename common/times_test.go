package common

import (
	"testing"
	"time"
)

func GetTestTimestamp() time.Time {
	return time.Unix(int64(1594336370), int64(706917000))
}

func GetTestTimestampMillisecondPrecision() string {
	return "1594336370706"
}

func TestFormatTimestamp(t *testing.T) {
	timestamp := GetTestTimestamp()
	expected := GetTestTimestampMillisecondPrecision()
	actual := FormatTimestamp(timestamp)
	if actual != expected {
		t.Errorf("unexpected timestamp: got '%s' instead of '%s'", actual, expected)
	}
}

func TestParseTimestampMillis(t *testing.T) {
	parsed, err := ParseTimestamp(GetTestTimestampMillisecondPrecision())
	if err != nil {
		t.Fatalf("ParseTimestamp returned an error: %s", err.Error())
	}
	if FormatTimestamp(parsed) != GetTestTimestampMillisecondPrecision() {
		t.Errorf("ParseTimestamp returned '%s'", FormatTimestamp(parsed))
	}
}

func TestParseTimestampRFC3339(t *testing.T) {
	timestamp := GetTestTimestamp()
	parsed, err := ParseTimestamp(timestamp.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("ParseTimestamp returned an error: %s", err.Error())
	}
	if parsed.Unix() != timestamp.Unix() {
		t.Errorf("ParseTimestamp returned '%s'", parsed)
	}
}

func TestParseTimestampRFC3339Nano(t *testing.T) {
	timestamp := GetTestTimestamp()
	parsed, err := ParseTimestamp(timestamp.Format(time.RFC3339Nano))
	if err != nil {
		t.Fatalf("ParseTimestamp returned an error: %s", err.Error())
	}
	if FormatTimestamp(parsed) != GetTestTimestampMillisecondPrecision() {
		t.Errorf("ParseTimestamp returned '%s'", FormatTimestamp(parsed))
	}
}

func TestParseTimestampGarbage(t *testing.T) {
	_, err := ParseTimestamp("not-a-timestamp")
	if err == nil {
		t.Error("ParseTimestamp accepted garbage input")
	}
}
