package lidar

import "math"

// Pose is a rigid sensor-to-site transform stored as a row-major 4x4 matrix.
type Pose struct {
	T [16]float64

	// RootMeanSquareErrorMeters is the residual of the survey that produced
	// T. Zero means it was not measured.
	RootMeanSquareErrorMeters float64
}

// IdentityPose leaves points in the sensor frame.
func IdentityPose() Pose {
	return Pose{T: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// PoseFromEuler builds a pose from yaw, pitch and roll in degrees (applied
// in Z-Y-X order) and a translation in meters.
func PoseFromEuler(yawDeg, pitchDeg, rollDeg, tx, ty, tz float64) Pose {
	sy, cy := math.Sincos(yawDeg * math.Pi / 180.0)
	sp, cp := math.Sincos(pitchDeg * math.Pi / 180.0)
	sr, cr := math.Sincos(rollDeg * math.Pi / 180.0)

	return Pose{T: [16]float64{
		cy * cp, cy*sp*sr - sy*cr, cy*sp*cr + sy*sr, tx,
		sy * cp, sy*sp*sr + cy*cr, sy*sp*cr - cy*sr, ty,
		-sp, cp * sr, cp * cr, tz,
		0, 0, 0, 1,
	}}
}

// ApplyPose applies a 4x4 row-major transform T to point (x,y,z).
func ApplyPose(x, y, z float64, T [16]float64) (wx, wy, wz float64) {
	wx = T[0]*x + T[1]*y + T[2]*z + T[3]
	wy = T[4]*x + T[5]*y + T[6]*z + T[7]
	wz = T[8]*x + T[9]*y + T[10]*z + T[11]
	return
}

// Apply returns p moved into the pose's target frame. Polar fields keep their
// sensor-frame values.
func (pose Pose) Apply(p Point) Point {
	p.X, p.Y, p.Z = ApplyPose(p.X, p.Y, p.Z, pose.T)
	return p
}

// TransformPoints applies pose to every point in place.
func (pose Pose) TransformPoints(points []Point) {
	for i := range points {
		points[i].X, points[i].Y, points[i].Z = ApplyPose(points[i].X, points[i].Y, points[i].Z, pose.T)
	}
}
