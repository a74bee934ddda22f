package blobstore

import (
	"regexp"
	"testing"
)

var keyPattern = regexp.MustCompile(`^temp/\d+/[0-9a-f-]{36}\.[a-z0-9]+$`)

func TestNewKey_MatchesExpectedFormat(t *testing.T) {
	key := NewKey(42, "jpg")
	if !keyPattern.MatchString(key) {
		t.Errorf("NewKey(42, jpg) = %q, want to match %q", key, keyPattern.String())
	}
}

func TestNewKey_IncludesUserIDAndExtension(t *testing.T) {
	key := NewKey(1001, "png")
	if !regexp.MustCompile(`^temp/1001/`).MatchString(key) {
		t.Errorf("NewKey(1001, png) = %q, want to start with temp/1001/", key)
	}
	if !regexp.MustCompile(`\.png$`).MatchString(key) {
		t.Errorf("NewKey(1001, png) = %q, want to end with .png", key)
	}
}

func TestNewKey_CarriesTheTempPrefixTheBucketLifecycleRuleMatches(t *testing.T) {
	key := NewKey(1, "jpg")
	if key[:5] != "temp/" {
		t.Errorf("NewKey(...) = %q, want the temp/ prefix the bucket's 24h TTL rule matches", key)
	}
}

func TestNewKey_IsUniqueAcrossCalls(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key := NewKey(1, "jpg")
		if seen[key] {
			t.Fatalf("NewKey produced a duplicate key: %q", key)
		}
		seen[key] = true
	}
}
