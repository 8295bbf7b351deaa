package audio_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smarthomecloud/backend/core"
	"github.com/smarthomecloud/backend/core/alert"
	"github.com/smarthomecloud/backend/core/audio"
	"github.com/smarthomecloud/backend/core/device"
	"github.com/smarthomecloud/backend/core/user"
	testutil "github.com/smarthomecloud/backend/tests"
)

func TestClassify(t *testing.T) {
	// .5 cancels the jitter out: confidences equal the base weights
	svc := audio.NewService(nil, nil, testutil.FixedRand{V: .5}, 0, nil)

	tests := []struct {
		filename  string
		wantTop   string
		wantConf  float64
		wantCount int
	}{
		{filename: "kitchen_glass_break_01.wav", wantTop: audio.ClassGlassBreak, wantConf: .86, wantCount: 1},
		{filename: "NIGHT-SCREAM.MP3", wantTop: audio.ClassScream, wantConf: .82, wantCount: 1},
		{filename: "baby_crying.ogg", wantTop: audio.ClassBabyCry, wantConf: .78, wantCount: 1},
		{filename: "smoke_alarm_beeping.wav", wantTop: audio.ClassSmokeAlarm, wantConf: .88, wantCount: 1},
		{filename: "dog_bark.wav", wantTop: audio.ClassDogBark, wantConf: .75, wantCount: 1},
		{filename: "front_door_knock.wav", wantTop: audio.ClassDoorKnock, wantConf: .72, wantCount: 1},
		{filename: "birds_in_garden.wav", wantTop: audio.ClassAmbient, wantConf: .35, wantCount: 1},
		// every matching class is listed, the first row of the table wins
		{filename: "glass_then_gunshot.wav", wantTop: audio.ClassGunshot, wantConf: .9, wantCount: 2},
		{filename: "dog_barks_at_baby.wav", wantTop: audio.ClassBabyCry, wantConf: .78, wantCount: 2},
	}
	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			top, detections := svc.Classify(tt.filename)
			assert.Equal(t, tt.wantTop, top.Class)
			assert.InDelta(t, tt.wantConf, top.Confidence, 1e-9)
			require.Len(t, detections, tt.wantCount)
			for i := 1; i < len(detections); i++ {
				assert.GreaterOrEqual(t, detections[i-1].Confidence, detections[i].Confidence)
			}
		})
	}
}

func TestClassifyJitterIsBounded(t *testing.T) {
	low := audio.NewService(nil, nil, testutil.FixedRand{V: 0}, 0, nil)
	high := audio.NewService(nil, nil, testutil.FixedRand{V: .9999999}, 0, nil)

	top, _ := low.Classify("gunshot.wav")
	assert.InDelta(t, .8, top.Confidence, 1e-9)

	top, _ = high.Classify("gunshot.wav")
	assert.InDelta(t, .99, top.Confidence, 1e-9, "confidence is capped")

	seeded := audio.NewService(nil, nil, audio.NewRandomSource(42), 0, nil)
	for i := 0; i < 100; i++ {
		top, _ := seeded.Classify("scream.wav")
		assert.GreaterOrEqual(t, top.Confidence, .72)
		assert.LessOrEqual(t, top.Confidence, .92)
	}
}

func TestAnalyze(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name       string
		rnd        float64
		deviceType string
		filename   string
		wantAlert  string
		wantErr    string
	}{
		{name: "glass break raises a high alert", rnd: .5, deviceType: device.TypeMicrophone, filename: "glass.wav", wantAlert: alert.TypeGlassBreak},
		{name: "camera audio", rnd: .5, deviceType: device.TypeCamera, filename: "gunshot.wav", wantAlert: alert.TypeGunshot},
		{name: "medium over threshold", rnd: .5, deviceType: device.TypeMicrophone, filename: "baby.wav", wantAlert: alert.TypeSound},
		{name: "medium under threshold", rnd: 0, deviceType: device.TypeMicrophone, filename: "baby.wav"},
		{name: "low severity never alerts", rnd: .9999, deviceType: device.TypeMicrophone, filename: "dog.wav"},
		{name: "ambient never alerts", rnd: .9999, deviceType: device.TypeMicrophone, filename: "rain.wav"},
		{name: "device cannot capture audio", rnd: .5, deviceType: device.TypeThermostat, filename: "scream.wav", wantErr: "device_id"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svcs := testutil.NewServices(testutil.FixedRand{V: tt.rnd})
			owner := testutil.CreateUser(t, svcs.UserRepo, "Ada", "ada@home.io", "", user.RoleHomeowner, true)
			h := testutil.CreateHouse(t, svcs.HouseRepo, owner.ID, "Lakeside")
			d := testutil.CreateDevice(t, svcs.DeviceRepo, h.ID, "Hall", tt.deviceType, "SN1", device.StatusOnline)

			res, err := svcs.Audio.Analyze(ctx, audio.Sample{DeviceID: d.ID, Filename: tt.filename})
			if tt.wantErr != "" {
				var vErr *core.ValidationError
				require.True(t, errors.As(err, &vErr))
				assert.Equal(t, tt.wantErr, vErr.Fields[0].Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, h.ID, res.HouseID)

			alerts, err := svcs.Alert.Query(ctx, &alert.QueryFilter{HouseIDs: []string{h.ID}}, nil)
			require.NoError(t, err)
			if tt.wantAlert == "" {
				assert.Nil(t, res.Alert)
				assert.Empty(t, alerts)
				return
			}
			require.NotNil(t, res.Alert)
			assert.Equal(t, tt.wantAlert, res.Alert.Type)
			assert.Equal(t, alert.SourceAudio, res.Alert.Source)
			assert.Equal(t, d.ID, res.Alert.DeviceID)
			assert.Equal(t, res.Top.Confidence, res.Alert.Confidence)
			require.Len(t, alerts, 1)
		})
	}
}
