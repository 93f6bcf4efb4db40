package device

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedMeter(v float32) Meter {
	return MeterFunc(func() float32 { return v })
}

func TestACSocketConsumption(t *testing.T) {
	s := NewACSocket("124", nil)
	assert.Equal(t, Off, s.State())
	assert.Equal(t, float32(0), s.Consumption())

	s.Switch(On)
	assert.Greater(t, s.Consumption(), float32(0))

	s.Switch(Off)
	assert.Equal(t, float32(0), s.Consumption())
}

func TestACSocketNonPositiveReading(t *testing.T) {
	s := NewACSocket("x", fixedMeter(0))
	s.Switch(On)
	assert.Greater(t, s.Consumption(), float32(0))
}

func TestACSocketStatus(t *testing.T) {
	s := NewACSocket("socket-1", fixedMeter(12.5))
	assert.Equal(t, "id = socket-1, power = OFF, consumption = 0.00", s.Status())

	s.Switch(On)
	assert.Equal(t, "id = socket-1, power = ON, consumption = 12.50", s.Status())
}

func TestRandomMeterRange(t *testing.T) {
	m := RandomMeter{}
	for i := 0; i < 1000; i++ {
		v := m.Measure()
		require.GreaterOrEqual(t, v, float32(0.1))
		require.Less(t, v, float32(100.0))
	}
}

func TestSequenceGenerator(t *testing.T) {
	g := NewSequenceGenerator("socket")
	assert.Equal(t, "socket-1", g.NextID())
	assert.Equal(t, "socket-2", g.NextID())

	plain := NewSequenceGenerator("")
	assert.Equal(t, "1", plain.NextID())
}

func TestUUIDGenerator(t *testing.T) {
	g := UUIDGenerator{}
	a, b := g.NextID(), g.NextID()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(NewSequenceGenerator("socket"), fixedMeter(42))

	_, err := r.Default()
	assert.ErrorIs(t, err, ErrEmpty)

	id1, err := r.Create()
	require.NoError(t, err)
	require.NoError(t, r.Add("kitchen"))
	assert.ErrorIs(t, r.Add("kitchen"), ErrDuplicate)
	assert.Error(t, r.Add(""))

	def, err := r.Default()
	require.NoError(t, err)
	assert.Equal(t, id1, def)
	assert.Equal(t, []string{"socket-1", "kitchen"}, r.List())
	assert.Equal(t, 2, r.Len())

	c, err := r.Consumption("kitchen")
	require.NoError(t, err)
	assert.Equal(t, float32(0), c)

	require.NoError(t, r.Switch("kitchen", On))
	require.NoError(t, r.Switch("kitchen", On), "switching twice is not an error")

	c, err = r.Consumption("kitchen")
	require.NoError(t, err)
	assert.Equal(t, float32(42), c)

	state, err := r.State("socket-1")
	require.NoError(t, err)
	assert.Equal(t, Off, state)

	status, err := r.Status("kitchen")
	require.NoError(t, err)
	assert.True(t, strings.Contains(status, "power = ON"))

	assert.ErrorIs(t, r.Switch("missing", On), ErrNotFound)
	_, err = r.Status("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Consumption("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryListIsCopy(t *testing.T) {
	r := NewRegistry(nil, nil)
	require.NoError(t, r.Add("a"))

	ids := r.List()
	ids[0] = "changed"
	assert.Equal(t, []string{"a"}, r.List())
}

func TestRegistryConcurrentAccess(t *testing.T) {
	r := NewRegistry(NewSequenceGenerator("s"), nil)
	id, err := r.Create()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			state := Off
			if i%2 == 0 {
				state = On
			}
			for j := 0; j < 100; j++ {
				assert.NoError(t, r.Switch(id, state))
				_, err := r.Status(id)
				assert.NoError(t, err)
				_, err = r.Consumption(id)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
}

func TestRegistryStatefulMeter(t *testing.T) {
	// 非并发安全的计数读数
	var calls int
	r := NewRegistry(nil, MeterFunc(func() float32 {
		calls++
		return float32(calls)
	}))
	require.NoError(t, r.Add("a"))
	require.NoError(t, r.Switch("a", On))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_, err := r.Consumption("a")
				assert.NoError(t, err)
				_, err = r.Status("a")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 16*50*2, calls)
}
