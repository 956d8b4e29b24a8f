package email

const (
	subjectVisitReceivedFmt        = "We received your site visit request (%s)"
	subjectClientAssignmentFmt     = "Your technician for visit %s"
	subjectTechnicianAssignmentFmt = "New site visit assigned: %s"
	subjectVisitCancelledFmt       = "Site visit %s cancelled"
)
