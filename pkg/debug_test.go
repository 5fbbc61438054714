package regionfix

import (
	"bytes"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestSetDebugFlags(t *testing.T) {
	tests := []struct {
		name            string
		input           string
		expectedScan    bool
		expectedRepair  bool
		expectedReplace bool
	}{
		{
			name:  "empty string",
			input: "",
		},
		{
			name:         "single option",
			input:        "scan",
			expectedScan: true,
		},
		{
			name:            "multiple options",
			input:           "scan,repair,replace",
			expectedScan:    true,
			expectedRepair:  true,
			expectedReplace: true,
		},
		{
			name:            "options with values",
			input:           "scan:true,repair:false,replace:1",
			expectedScan:    true,
			expectedReplace: true,
		},
		{
			name:           "whitespace handling",
			input:          " scan , repair ",
			expectedScan:   true,
			expectedRepair: true,
		},
		{
			name:           "case insensitive",
			input:          "Scan,REPAIR",
			expectedScan:   true,
			expectedRepair: true,
		},
	}

	defer SetVerboseLevel(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetDebugFlags("")
			SetDebugFlags(tt.input)

			if IsDebugEnabled("scan") != tt.expectedScan {
				t.Errorf("scan: expected %v, got %v", tt.expectedScan, IsDebugEnabled("scan"))
			}
			if IsDebugEnabled("repair") != tt.expectedRepair {
				t.Errorf("repair: expected %v, got %v", tt.expectedRepair, IsDebugEnabled("repair"))
			}
			if IsDebugEnabled("replace") != tt.expectedReplace {
				t.Errorf("replace: expected %v, got %v", tt.expectedReplace, IsDebugEnabled("replace"))
			}
		})
	}
}

func TestDebugFlagValueParsing(t *testing.T) {
	tests := []struct {
		input    string
		flag     string
		expected bool
	}{
		{"flag:true", "flag", true},
		{"flag:1", "flag", true},
		{"flag:on", "flag", true},
		{"flag:false", "flag", false},
		{"flag:FALSE", "flag", false},
		{"flag:0", "flag", false},
		{"flag:no", "flag", false},
		{"flag:off", "flag", false},
		{"flag:unknown", "flag", true}, // Default to true for unknown values
		{"flag", "flag", true},
	}

	defer SetVerboseLevel(0)
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			SetDebugFlags(tt.input)
			result := IsDebugEnabled(tt.flag)
			if result != tt.expected {
				t.Errorf("SetDebugFlags(%q) then IsDebugEnabled(%q) = %v, expected %v", tt.input, tt.flag, result, tt.expected)
			}
		})
	}
}

func TestDebugFlagsEnableDebugOutput(t *testing.T) {
	SetVerboseLevel(0)
	defer SetVerboseLevel(0)
	defer SetDebugFlags("")

	SetDebugFlags("scan")
	if !logger.IsLevelEnabled(logrus.DebugLevel) {
		t.Error("Expected debug flags to enable debug level logging")
	}
}

func TestVerboseLevels(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stderr)
	defer SetVerboseLevel(0)

	SetVerboseLevel(1)
	VerboseLog(1, "basic %d", 1)
	VerboseLog(2, "detailed %d", 2)

	out := buf.String()
	if !strings.Contains(out, "basic 1") {
		t.Errorf("Expected level 1 message in output, got %q", out)
	}
	if strings.Contains(out, "detailed 2") {
		t.Errorf("Did not expect level 2 message at verbose level 1, got %q", out)
	}

	buf.Reset()
	SetVerboseLevel(3)
	func() {
		defer VerboseEnter()()
	}()
	if !strings.Contains(buf.String(), "enter") || !strings.Contains(buf.String(), "exit") {
		t.Errorf("Expected enter/exit trace at level 3, got %q", buf.String())
	}
}

func TestApplyVerboseConfig(t *testing.T) {
	defer SetVerboseLevel(0)
	defer SetDebugFlags("")

	ApplyVerboseConfig(&VerboseConfig{Level: 1, Debug: "repair"}, 0)
	if GetVerboseLevel() != 1 {
		t.Errorf("Expected verbose level 1 from config, got %d", GetVerboseLevel())
	}
	if !GetDebugEnabled("repair") {
		t.Error("Expected repair debug flag from config")
	}

	ApplyVerboseConfig(&VerboseConfig{Level: 1}, 3)
	if GetVerboseLevel() != 3 {
		t.Errorf("Expected command-line level 3 to win, got %d", GetVerboseLevel())
	}
}
