package vulkan

import (
	"testing"
	"time"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
)

func TestVulkanSafeString(t *testing.T) {
	assert.Equal(t, "main\x00", VulkanSafeString("main"))
	assert.Equal(t, "main\x00", VulkanSafeString("main\x00"))

	in := []string{"VK_KHR_surface"}
	out := VulkanSafeStrings(in)
	assert.Equal(t, []string{"VK_KHR_surface\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0])
}

func TestCString(t *testing.T) {
	var name [16]byte
	copy(name[:], "VK_LAYER_x")
	assert.Equal(t, "VK_LAYER_x", cString(name[:]))
	assert.Equal(t, "abc", cString([]byte("abc")))
}

func TestResultStrings(t *testing.T) {
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(vk.ErrorOutOfDate))
	assert.Equal(t, "VkResult(-12345)", VulkanResultString(vk.Result(-12345)))
	assert.True(t, VulkanResultIsSuccess(vk.Suboptimal))
	assert.False(t, VulkanResultIsSuccess(vk.ErrorDeviceLost))
	assert.NoError(t, check(vk.Success, "vkTest"))
	assert.ErrorContains(t, check(vk.ErrorDeviceLost, "vkTest"), "vkTest failed with VK_ERROR_DEVICE_LOST")
}

func TestTimeoutNanos(t *testing.T) {
	assert.Equal(t, uint64(vk.MaxUint64), timeoutNanos(-1))
	assert.Equal(t, uint64(2_000_000), timeoutNanos(2*time.Millisecond))
}
