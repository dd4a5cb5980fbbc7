package permission

// Config is the permission module configuration.
//
// Example YAML:
//
//	default_profile: DefaultPerm
//	grants:
//	  "42": PermissivePerm
type Config struct {
	// DefaultProfile is the capability namespace consulted for actors
	// without a grant.
	DefaultProfile string `yaml:"default_profile" default:"DefaultPerm"`

	// Grants maps actor ids to profile namespaces.
	Grants map[string]string `yaml:"grants"`
}
