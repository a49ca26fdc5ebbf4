package storyboard

// ActiveSceneIndex returns the index of the last scene whose start time is
// <= t. The scan stops at the first scene starting after t, so it relies on
// scenes being sorted. Before the first start time the first scene is active.
// scenes must not be empty.
func ActiveSceneIndex(scenes []Scene, t float64) int {
	if len(scenes) == 0 {
		panic("storyboard: ActiveSceneIndex called with no scenes")
	}
	idx := 0
	for i := range scenes {
		if scenes[i].StartTime > t {
			break
		}
		idx = i
	}
	return idx
}

// SceneWindow returns the on-screen window of scene i: from its start time to
// the next scene's start time, or to end for the last scene.
func SceneWindow(scenes []Scene, i int, end float64) (start, stop float64) {
	start = scenes[i].StartTime
	if i+1 < len(scenes) {
		stop = scenes[i+1].StartTime
	} else {
		stop = end
	}
	return start, stop
}

// AnimationPhase is the fraction of scene i's window elapsed at t, clamped to [0,1].
func AnimationPhase(scenes []Scene, i int, t, end float64) float64 {
	start, stop := SceneWindow(scenes, i, end)
	if stop <= start {
		return 0
	}
	return clamp01((t - start) / (stop - start))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
