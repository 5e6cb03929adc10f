package services

import (
	"time"

	"tutorlink/internal/core/domain"
	"tutorlink/internal/core/ports"
)

// QualityService grades call health from local track liveness and
// inbound packet recency. Stateless; the call service samples it on a
// timer while connected.
type QualityService struct {
	// StallThreshold is how long inbound media may be silent before the
	// link counts as stalled.
	StallThreshold time.Duration
}

func NewQualityService() *QualityService {
	return &QualityService{StallThreshold: 10 * time.Second}
}

// Sample computes the current quality. A dead local audio track grades
// Poor, a stalled remote link Fair; otherwise video liveness decides
// between Good and Excellent. Streams without an audio track (receive
// only joins) are graded on the remote link alone.
func (q *QualityService) Sample(local *domain.LocalMediaStream, handle ports.CallHandle, hasRemote bool) domain.Quality {
	if local != nil {
		if audio := local.AudioTrack(); audio != nil && audio.ReadyState() != domain.TrackStateLive {
			return domain.QualityPoor
		}
	}

	if hasRemote && handle != nil {
		last := handle.LastRemotePacket()
		if !last.IsZero() && time.Since(last) > q.StallThreshold {
			return domain.QualityFair
		}
	}

	if local != nil {
		if video := local.VideoTrack(); video != nil && video.ReadyState() == domain.TrackStateLive {
			return domain.QualityExcellent
		}
	}
	return domain.QualityGood
}
