// Package types is a super-package that contains all leaf library code the probe workflow needs to interact with,
// such as key material, peer records, wire message parsing and the collaborator interfaces.
//
// This package exists to avoid import cycles, and to clean up all misc/"leaf" functions and types into one hierarchy.
//
// As a general rule to avoid import cycles inside this package:
//   - Only import parent packages, don't import child packages
//   - Importing from a "sibling" package (up the tree) is allowed.
package types
