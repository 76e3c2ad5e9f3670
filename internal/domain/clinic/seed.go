package clinic

import "github.com/shopspring/decimal"

// DemoCatalog is the starter catalog loaded by the seed command and, when
// enabled, on first start.
func DemoCatalog() []*Medication {
	return []*Medication{
		{ID: "M001", Name: "阿莫西林胶囊", Spec: "0.25g*24粒", Unit: "盒", Price: decimal.RequireFromString("12.50"), Category: "抗生素", Stock: 500},
		{ID: "M002", Name: "布洛芬缓释胶囊", Spec: "0.3g*10粒", Unit: "盒", Price: decimal.RequireFromString("25.00"), Category: "止痛药", Stock: 45},
		{ID: "M003", Name: "连花清瘟胶囊", Spec: "0.35g*24粒", Unit: "盒", Price: decimal.RequireFromString("18.80"), Category: "感冒药", Stock: 150},
		{ID: "M004", Name: "葡萄糖酸钙口服溶液", Spec: "10ml*10支", Unit: "盒", Price: decimal.RequireFromString("32.00"), Category: "营养补充", Stock: 12},
		{ID: "M005", Name: "氯化钠注射液", Spec: "100ml:0.9g", Unit: "袋", Price: decimal.RequireFromString("5.50"), Category: "输液剂", Stock: 1000},
		{ID: "M006", Name: "红霉素软膏", Spec: "10g:0.1g", Unit: "支", Price: decimal.RequireFromString("8.00"), Category: "皮肤科用药", Stock: 30},
		{ID: "M007", Name: "二甲双胍片", Spec: "0.5g*30片", Unit: "盒", Price: decimal.RequireFromString("15.60"), Category: "糖尿病药", Stock: 200},
	}
}

// DefaultPrescriberID is recorded on visits that do not name a prescriber.
const DefaultPrescriberID = "DOC001"

// DemoPrescribers is the clinician directory used when none is configured.
func DemoPrescribers() []*Prescriber {
	return []*Prescriber{
		{ID: DefaultPrescriberID, Name: "王医生", Department: "内科", Title: "主任医师"},
	}
}
