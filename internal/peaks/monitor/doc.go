// Package monitor renders trajectory output for inspection: PNG plots
// through gonum/plot and a self-contained HTML report through go-echarts.
package monitor
