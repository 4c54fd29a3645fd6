package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicsForRole(t *testing.T) {
	assert := assert.New(t)

	testCases := []struct {
		role     Role
		expected []string
	}{
		{Manager, []string{TopicProjects, TopicPurchaseOrders, TopicWorkflow}},
		{Employee, []string{TopicInventory}},
		{ProcurementStaff, []string{TopicPurchaseOrders}},
		{MaintenanceStaff, []string{TopicMaintenance}},
		{DocumentAnalyst, []string{TopicDocuments}},
	}
	for _, testCase := range testCases {
		topics, ok := TopicsForRole(testCase.role)
		assert.Truef(ok, "role `%s` should be mapped", testCase.role)
		assert.Equalf(testCase.expected, topics, "unexpected topics for role `%s`", testCase.role)
	}
}

func TestTopicsForAdmin(t *testing.T) {
	assert := assert.New(t)

	topics, ok := TopicsForRole(Admin)
	assert.True(ok)
	assert.Len(topics, 6)
	assert.Contains(topics, TopicProjects)
	assert.Contains(topics, TopicMaintenance)
	assert.NotContains(topics, TopicNotifications, "the unfiltered notifications firehose is never granted")
}

func TestTopicsForUnknownRole(t *testing.T) {
	assert := assert.New(t)

	topics, ok := TopicsForRole(Role("intern"))
	assert.False(ok, "an unmapped role must be reported as unmapped")
	assert.Empty(topics, "an unmapped role must get no topics")
}

func TestTopicsForRoleIsDeterministic(t *testing.T) {
	assert := assert.New(t)

	first, _ := TopicsForRole(Manager)
	second, _ := TopicsForRole(Manager)
	assert.Equal(first, second)
}

func TestTopicsForRoleReturnsACopy(t *testing.T) {
	assert := assert.New(t)

	topics, _ := TopicsForRole(Manager)
	topics[0] = "mangled"

	fresh, _ := TopicsForRole(Manager)
	assert.Equal(TopicProjects, fresh[0], "mutating a result must not affect the mapping")
}
