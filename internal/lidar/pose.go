package lidar

import (
	"fmt"
	"math"
	"strings"
)

// PoseQuality represents the assessed quality of a pose survey.
type PoseQuality string

const (
	PoseQualityExcellent PoseQuality = "excellent"
	PoseQualityGood      PoseQuality = "good"
	PoseQualityFair      PoseQuality = "fair"
	PoseQualityPoor      PoseQuality = "poor"
	PoseQualityUnknown   PoseQuality = "unknown"
)

// Pose quality RMSE thresholds (meters)
const (
	RMSEThresholdExcellent = 0.05
	RMSEThresholdGood      = 0.15
	RMSEThresholdFair      = 0.30
	// MatrixValidationTolerance is the tolerance for checking rotation matrix validity
	MatrixValidationTolerance = 0.01
)

// Quality grades the pose by its survey residual.
func (pose Pose) Quality() PoseQuality {
	rmse := pose.RootMeanSquareErrorMeters
	switch {
	case rmse == 0:
		return PoseQualityUnknown
	case rmse < RMSEThresholdExcellent:
		return PoseQualityExcellent
	case rmse < RMSEThresholdGood:
		return PoseQualityGood
	case rmse < RMSEThresholdFair:
		return PoseQualityFair
	default:
		return PoseQualityPoor
	}
}

// Validate checks that T is a proper rigid transform and that the survey
// residual, when known, is not poor.
func (pose Pose) Validate() error {
	var issues []string
	if !IsValidTransformMatrix(pose.T) {
		issues = append(issues, "invalid transform matrix (not proper rigid transform)")
	}
	if q := pose.Quality(); q == PoseQualityPoor {
		issues = append(issues, fmt.Sprintf("pose quality is poor (RMSE %.3fm)", pose.RootMeanSquareErrorMeters))
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid pose: %s", strings.Join(issues, "; "))
	}
	return nil
}

// IsValidTransformMatrix checks if a 4x4 matrix is a valid rigid transform:
// the rotation block has determinant 1 and the last row is [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	// Proper rotation, not reflection
	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}

	return true
}
