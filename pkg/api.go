package regionfix

// This file holds the small public helpers the CLI uses to set up logging

// InitDebugFlags initialises debug flags - for CLI compatibility
func InitDebugFlags(flagsStr string) {
	if flagsStr != "" {
		SetDebugFlags(flagsStr)
	}
}

// ApplyVerboseConfig sets the verbose level and debug flags from config,
// with a non-zero command-line level taking precedence
func ApplyVerboseConfig(vc *VerboseConfig, cliLevel int) {
	level := vc.Level
	if cliLevel > 0 {
		level = cliLevel
	}
	SetVerboseLevel(level)
	InitDebugFlags(vc.Debug)
	if globalVerboseLevel > 0 {
		VerboseLog(1, "Verbose level %d", globalVerboseLevel)
	}
}

// GetDebugEnabled returns whether a debug flag is enabled - public alternative to IsDebugEnabled
func GetDebugEnabled(flag string) bool {
	return IsDebugEnabled(flag)
}
