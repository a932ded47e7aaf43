package pointcloud

import (
	"testing"

	"go.viam.com/test"
)

func TestVoxelSetInsertOnce(t *testing.T) {
	v := NewVoxelSet(0.1, 0, 0, 0, 1)

	test.That(t, v.Insert(0.05, 0.05, 0.05), test.ShouldBeTrue)
	test.That(t, v.Insert(0.06, 0.06, 0.06), test.ShouldBeFalse)
	test.That(t, v.Insert(0.2, 0.2, 0.2), test.ShouldBeTrue)
}

func TestVoxelSetOutOfBounds(t *testing.T) {
	v := NewVoxelSet(0.1, 0, 0, 0, 1)

	test.That(t, v.Insert(5, 5, 5), test.ShouldBeFalse)
	test.That(t, v.Insert(-5, -5, -5), test.ShouldBeFalse)
}

func TestVoxelSetReset(t *testing.T) {
	v := NewVoxelSet(0.1, 0, 0, 0, 1)

	test.That(t, v.Insert(0, 0, 0), test.ShouldBeTrue)
	test.That(t, v.Insert(0, 0, 0), test.ShouldBeFalse)

	v.Reset()
	test.That(t, v.Insert(0, 0, 0), test.ShouldBeTrue)
}
