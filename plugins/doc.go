// Package plugins hosts the feature modules that declare keys on the stored
// records. It contains no runtime code itself; this file exists so the
// architecture guard test alongside it has a package to live in.
//
// A NOTE ON testhelper:
//
//	The subpackage plugins/testhelper builds a registry over fresh schemas so
//	plugin tests can declare keys without colliding with each other or with
//	the process-wide schemas. Do not import it from production plugin code.
package plugins
