// Package domain holds the records of the person import: the CSV row as read and the
// person as stored.
package domain

// PersonRecord is one CSV row. Values are kept as read; validation and conversion
// happen in the processor.
type PersonRecord struct {
	Name    string `yaml:"name"`
	Age     string `yaml:"age"`
	Nation  string `yaml:"nation"`
	Address string `yaml:"address"`
}

// Person is a validated person. It is stored in the person table by the GORM sink, or
// written by the Parquet sink, which ignores the untagged ID.
type Person struct {
	ID      uint   `gorm:"column:id;primaryKey;autoIncrement"`
	Name    string `gorm:"column:name" parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Age     int32  `gorm:"column:age" parquet:"name=age, type=INT32"`
	Nation  string `gorm:"column:nation" parquet:"name=nation, type=BYTE_ARRAY, convertedtype=UTF8"`
	Address string `gorm:"column:address" parquet:"name=address, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// TableName specifies the table name for Person.
func (Person) TableName() string {
	return "person"
}
