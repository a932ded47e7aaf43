package capture

import (
	"testing"

	"go.viam.com/test"
)

func TestSyncRoleWireCodes(t *testing.T) {
	test.That(t, int(RoleSubordinate), test.ShouldEqual, 0)
	test.That(t, int(RoleMaster), test.ShouldEqual, 1)
	test.That(t, int(RoleStandalone), test.ShouldEqual, 2)
}

func TestSyncRoleString(t *testing.T) {
	test.That(t, RoleMaster.String(), test.ShouldEqual, "master")
	test.That(t, RoleSubordinate.String(), test.ShouldEqual, "subordinate")
	test.That(t, RoleStandalone.String(), test.ShouldEqual, "standalone")
}
