// Package boq turns bill-of-quantities sheet text into normalized line
// items: segmentation, extraction strategies (AI-assisted with recovery,
// heuristic row parsing), filtering, unit normalization, arithmetic
// validation, category classification and catalog matching.
package boq
