// Package option1837 holds the DHCPv6 Interface-ID (Option 18) / Remote-ID
// (Option 37) tuple and the named extractor functions that normalize it
// into a lookup key, the v6 analogue of internal/option82.
package option1837

import "sort"

// Option1837 is the interface-id / remote-id / enterprise-number tuple.
// EnterpriseNumber is 0 when absent (a valid IANA enterprise number is
// always nonzero), mirroring how Option82 uses "" for an absent string.
type Option1837 struct {
	Interface        string
	Remote           string
	EnterpriseNumber uint32
}

// Empty reports whether neither identifying subfield is set.
func (o Option1837) Empty() bool {
	return o.Interface == "" && o.Remote == ""
}

// ExtractorFn is a pure function: normalize one raw Option1837 into a
// lookup key, or report that this extractor does not apply.
type ExtractorFn func(Option1837) (Option1837, bool)

// InterfaceOnly projects the Interface-ID subfield only.
func InterfaceOnly(o Option1837) (Option1837, bool) {
	if o.Interface == "" {
		return Option1837{}, false
	}
	return Option1837{Interface: o.Interface}, true
}

// RemoteOnly projects the Remote-ID subfield only.
func RemoteOnly(o Option1837) (Option1837, bool) {
	if o.Remote == "" {
		return Option1837{}, false
	}
	return Option1837{Remote: o.Remote}, true
}

// InterfaceAndRemote requires both Interface-ID and Remote-ID.
func InterfaceAndRemote(o Option1837) (Option1837, bool) {
	if o.Interface == "" || o.Remote == "" {
		return Option1837{}, false
	}
	return Option1837{Interface: o.Interface, Remote: o.Remote}, true
}

// RemoteWithEnterprise requires Remote-ID plus a nonzero enterprise
// number, dropping Interface-ID.
func RemoteWithEnterprise(o Option1837) (Option1837, bool) {
	if o.Remote == "" || o.EnterpriseNumber == 0 {
		return Option1837{}, false
	}
	return Option1837{Remote: o.Remote, EnterpriseNumber: o.EnterpriseNumber}, true
}

// AllFields keeps the tuple as-is provided at least one of Interface-ID
// or Remote-ID is present.
func AllFields(o Option1837) (Option1837, bool) {
	if o.Interface == "" && o.Remote == "" {
		return Option1837{}, false
	}
	return o, true
}

// Registry is the name -> extractor lookup used to resolve
// config-specified extractor names at load time.
var Registry = map[string]ExtractorFn{
	"interface_only":         InterfaceOnly,
	"remote_only":            RemoteOnly,
	"interface_and_remote":   InterfaceAndRemote,
	"remote_with_enterprise": RemoteWithEnterprise,
	"all_fields":             AllFields,
}

// Names returns every registered extractor name, sorted, for
// --available-extractors.
func Names() []string {
	names := make([]string, 0, len(Registry))
	for name := range Registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
