// Package council implements the 3-stage deliberation pipeline: parallel
// first opinions from every council member, anonymized peer ranking of those
// answers, and a chairman synthesis of the final response. Progress is
// reported as an ordered event sequence; runs are gated by a monthly token
// quota before the first provider call.
package council
