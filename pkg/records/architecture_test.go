package records

import (
	"testing"

	"modstore/testutil"
)

func TestPublicPackageDoesNotImportInternal(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden, "public packages stay independent of internal ones")
}
