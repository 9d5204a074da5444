package motion

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

func TestNewDetector_RejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MinAreaRatio, cfg.MaxAreaRatio = 0.9, 0.05
	_, err := NewDetector(cfg, zap.NewNop())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.History = 0
	_, err = NewDetector(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestDetector_EmptyFrameAndClose(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = d.Detect(empty)
	assert.ErrorIs(t, err, ErrEmptyFrame)

	require.NoError(t, d.Close())
	require.NoError(t, d.Close())

	frame := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer frame.Close()
	_, err = d.Detect(frame)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDetector_StaticSceneHasNoValidMotion(t *testing.T) {
	d, err := NewDetector(DefaultConfig(), zap.NewNop())
	require.NoError(t, err)
	defer d.Close()

	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(40, 40, 40, 0), 120, 160, gocv.MatTypeCV8UC3)
	defer frame.Close()

	var regions []Region
	for i := 0; i < 30; i++ {
		regions, err = d.DetectValid(frame, nil)
		require.NoError(t, err)
	}
	assert.Empty(t, regions)
	assert.EqualValues(t, 30, d.Stats().FramesProcessed)
}

func TestMaskFrame_UnionOfRegions(t *testing.T) {
	frame := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(200, 100, 50, 0), 100, 100, gocv.MatTypeCV8UC3)
	defer frame.Close()

	regions := []Region{
		{Rect: image.Rect(10, 10, 20, 20)},
		{Rect: image.Rect(60, 60, 80, 80)},
	}
	masked := MaskFrame(frame, regions)
	defer masked.Close()

	require.Equal(t, frame.Rows(), masked.Rows())
	require.Equal(t, frame.Cols(), masked.Cols())

	assert.Equal(t, uint8(200), masked.GetVecbAt(15, 15)[0])
	assert.Equal(t, uint8(200), masked.GetVecbAt(70, 70)[0], "every region is kept, not just the last")
	assert.Equal(t, uint8(0), masked.GetVecbAt(40, 40)[0])
	assert.Equal(t, uint8(0), masked.GetVecbAt(95, 5)[0])
}
