package ros

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddPublisherRespectsCapacity(t *testing.T) {
	r := &registries{maxPublishers: 2}

	_, err := r.addPublisher(&PublisherNode{Topic: "/a"})
	require.NoError(t, err)
	_, err = r.addPublisher(&PublisherNode{Topic: "/b"})
	require.NoError(t, err)

	_, err = r.addPublisher(&PublisherNode{Topic: "/c"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestFindPublisherByTopicSkipsRemovedSlots(t *testing.T) {
	r := &registries{maxPublishers: 4}
	idxA, _ := r.addPublisher(&PublisherNode{Topic: "/a"})
	idxB, _ := r.addPublisher(&PublisherNode{Topic: "/b"})

	r.removePublisher(idxA)

	p, idx := r.findPublisherByTopic("/a")
	assert.Nil(t, p)
	assert.Equal(t, -1, idx)

	p, idx = r.findPublisherByTopic("/b")
	require.NotNil(t, p)
	assert.Equal(t, idxB, idx)
}

func TestRemoveSubscriberIsIdempotent(t *testing.T) {
	r := &registries{maxSubscribers: 2}
	idx, _ := r.addSubscriber(&SubscriberNode{Topic: "/s", ClientSlot: -1})

	r.removeSubscriber(idx)
	r.removeSubscriber(idx)

	s, found := r.findSubscriberByTopic("/s")
	assert.Nil(t, s)
	assert.Equal(t, -1, found)
}

func TestServiceProviderAndCallerLookupByName(t *testing.T) {
	r := &registries{maxServiceProviders: 1, maxServiceCallers: 1}
	_, err := r.addServiceProvider(&ServiceProvider{Service: "/add"})
	require.NoError(t, err)
	_, err = r.addServiceCaller(&ServiceCaller{Service: "/add", clientSlot: -1})
	require.NoError(t, err)

	p, _ := r.findServiceProviderByName("/add")
	require.NotNil(t, p)
	c, _ := r.findServiceCallerByName("/add")
	require.NotNil(t, c)

	_, err = r.addServiceProvider(&ServiceProvider{Service: "/sub"})
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}
