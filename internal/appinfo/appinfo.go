package appinfo

// Name is the user-facing application name.
const Name = "autoblog"

// Version is the user-facing semantic version.
//
// Keep this as a var so it can be overridden at build time via:
//
//	-ldflags "-X autoblog/internal/appinfo.Version=0.2.0"
var Version = "0.1.0"

func Display() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	return Name + " v" + v
}

// UserAgent is sent on outbound calls to the generation service.
func UserAgent() string {
	v := Version
	if v == "" {
		v = "dev"
	}
	return Name + "/" + v
}
