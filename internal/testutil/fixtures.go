package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

// ServiceRoot is the data source uri used by the sample manifest.
const ServiceRoot = "/sap/opu/odata/sap/ZPRODUCT_SRV/"

// SampleManifest is a minimal application descriptor with one OData data source.
const SampleManifest = `{
  "_version": "1.12.0",
  "sap.app": {
    "id": "demo.products",
    "type": "application",
    "dataSources": {
      "mainService": {
        "uri": "/sap/opu/odata/sap/ZPRODUCT_SRV/",
        "type": "OData",
        "settings": {
          "odataVersion": "2.0",
          "localUri": "localService/metadata.xml"
        }
      }
    }
  }
}`

// SampleMetadata declares Products (integer key, has mock data) and
// Categories (Guid key, generated).
const SampleMetadata = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx"
  xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
  <edmx:DataServices m:DataServiceVersion="2.0">
    <Schema Namespace="ZPRODUCT_SRV" xmlns="http://schemas.microsoft.com/ado/2008/09/edm">
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Name" Type="Edm.String" MaxLength="40"/>
        <Property Name="Price" Type="Edm.Decimal"/>
        <Property Name="Available" Type="Edm.Boolean"/>
      </EntityType>
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Guid" Nullable="false"/>
        <Property Name="Name" Type="Edm.String"/>
        <Property Name="CreatedAt" Type="Edm.DateTime"/>
      </EntityType>
      <EntityContainer Name="ZPRODUCT_SRV_Entities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Products" EntityType="ZPRODUCT_SRV.Product"/>
        <EntitySet Name="Categories" EntityType="ZPRODUCT_SRV.Category"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// SampleProducts is the mock data file for the Products entity set.
const SampleProducts = `[
  {"ProductID": 1, "Name": "Chai", "Price": "18.00", "Available": true},
  {"ProductID": 2, "Name": "Chang", "Price": "19.00", "Available": false},
  {"ProductID": 3, "Name": "Aniseed Syrup", "Price": "10.00", "Available": true}
]`

// WriteSampleApp lays out manifest.json, localService/metadata.xml and
// localService/mockdata/Products.json under dir and returns the manifest path.
func WriteSampleApp(t *testing.T, dir string) string {
	t.Helper()

	mockdata := filepath.Join(dir, "localService", "mockdata")
	if err := os.MkdirAll(mockdata, 0o755); err != nil {
		t.Fatalf("failed to create mockdata dir: %v", err)
	}

	writeFile(t, filepath.Join(dir, "manifest.json"), SampleManifest)
	writeFile(t, filepath.Join(dir, "localService", "metadata.xml"), SampleMetadata)
	writeFile(t, filepath.Join(mockdata, "Products.json"), SampleProducts)

	return filepath.Join(dir, "manifest.json")
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}
